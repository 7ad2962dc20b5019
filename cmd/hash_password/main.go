// hash_password prints a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	flag.Parse()

	pw := flag.Arg(0)
	if pw == "" {
		// read from stdin so the password stays out of shell history
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			log.Fatal("usage: go run ./cmd/hash_password [password] (or pipe it on stdin)")
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	if len(pw) < 8 {
		log.Fatal("password too short (min 8)")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), *cost)
	if err != nil {
		log.Fatalf("bcrypt: %v", err)
	}
	fmt.Println(string(h))
}
