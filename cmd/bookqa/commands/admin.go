package commands

import (
	"crypto/subtle"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/54b3r/bookqa-go/internal/bookerr"
)

// checkAdmin verifies the administrator password for mutating commands.
// The password comes from --password, or is prompted for without echo when
// stdin is a terminal.
func checkAdmin(flagValue string, stdin *os.File, prompt io.Writer) error {
	want := os.Getenv("ADMIN_PASSWORD")
	if want == "" {
		return fmt.Errorf("%w: ADMIN_PASSWORD is not set", bookerr.ErrConfiguration)
	}

	got := flagValue
	if got == "" && term.IsTerminal(int(stdin.Fd())) { //nolint:gosec // fd fits in int
		fmt.Fprint(prompt, "Contraseña de administrador: ")
		raw, err := term.ReadPassword(int(stdin.Fd())) //nolint:gosec // fd fits in int
		fmt.Fprintln(prompt)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		got = strings.TrimSpace(string(raw))
	}

	if !passwordMatches(got, want) {
		return bookerr.ErrUnauthorized
	}
	return nil
}

// passwordMatches compares in constant time. An empty candidate never matches.
func passwordMatches(got, want string) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
