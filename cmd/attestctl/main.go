// Command attestctl runs attestation maintenance tasks against the configured database.
package main

func main() {
	Execute()
}
