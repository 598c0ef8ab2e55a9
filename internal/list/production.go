//go:build !listdebug

package list

const checked = false
