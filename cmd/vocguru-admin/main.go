// Package main provides vocguru-admin, a maintenance CLI that works
// directly against the feedback database.
package main

func main() {
	Execute()
}
