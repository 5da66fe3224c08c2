package main

import (
	"bufio"
	"fmt"
	"os"

	"golang.org/x/term"
)

// promptPassphrase reads a passphrase without echoing it, the way the
// age CLI's readSecret prompt does; falls back to a plain line read when
// stdin isn't a terminal (piped input in scripts/tests).
func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt+": ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		return string(data), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}
