// Command heapsim runs the boot-time memory core on the host. Physical memory
// is simulated by an anonymous mapping which the firmware tables, the memory
// map and the heap all live in.
package main

func main() {
	execute()
}
