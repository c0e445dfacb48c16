package cmd

import "fmt"

// versionTemplate builds the version output at call time rather than at
// package-init time, since commit is only ever set later by ldflags in a
// real build (package-level var initialization order would otherwise race
// it in the stub "dev" case).
func versionTemplate() string {
	return fmt.Sprintf(
		`{{printf "%s %s\n%s %s\n"}}`,
		headerStyle.Sprint("Version:"), version,
		headerStyle.Sprint("Commit:"), commit,
	)
}
