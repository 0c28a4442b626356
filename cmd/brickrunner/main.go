// Command brickrunner hosts a single brick of a pipeline.
package main

func main() {
	Execute()
}
