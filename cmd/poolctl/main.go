// Command poolctl exercises slab and buffer pools with allocation traces and synthetic workloads.
package main

func main() {
	execute()
}
