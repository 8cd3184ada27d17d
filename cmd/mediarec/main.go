// Command mediarec records a synthetic scene and manages recordings.
package main

import (
	"log"

	"mediarec"
)

func main() {
	if err := mediarec.Run(); err != nil {
		log.Fatal(err)
	}
}
