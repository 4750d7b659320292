// Command csvimport runs import sessions from the command line.
//
// Reports are written to stdout as JSON; logs go to stderr.
package main

func main() {
	Execute()
}
