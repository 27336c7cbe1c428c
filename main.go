package main

import (
	"fmt"

	_ "github.com/geocached/geocached/cache"
	_ "github.com/geocached/geocached/codec"
	_ "github.com/geocached/geocached/config"
	_ "github.com/geocached/geocached/key"
	_ "github.com/geocached/geocached/store"
	_ "github.com/geocached/geocached/warmer"
)

func main() {
	fmt.Println("Hi")
}
