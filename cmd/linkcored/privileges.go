package main

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// dropPrivileges switches the process's uid/gid to userName. It runs after
// the log file and pidfile are opened and before any logic (with its
// sockets and ptys) is built, per §4.14's domain-stack note on x/sys:
// Setgid before Setuid,
// since a process that has already dropped its uid can no longer change
// its gid.
func dropPrivileges(userName string) error {
	u, err := user.Lookup(userName)
	if err != nil {
		return fmt.Errorf("runasuser: lookup %q: %w", userName, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("runasuser: parse gid %q: %w", u.Gid, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("runasuser: parse uid %q: %w", u.Uid, err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("runasuser: setgid(%d): %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("runasuser: setuid(%d): %w", uid, err)
	}
	return nil
}
