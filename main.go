package main

import "github.com/thomasychen/rm-marllib/examples"

func main() {
	examples.QMixSynthetic()
}
