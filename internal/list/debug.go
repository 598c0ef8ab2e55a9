//go:build listdebug

package list

// checked enables membership and link-symmetry checks on every add and remove.
const checked = true
