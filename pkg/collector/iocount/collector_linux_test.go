//go:build linux

package iocount

import "testing"

func TestTracepointOf(t *testing.T) {
	cases := []struct {
		section, group, event string
		ok                    bool
	}{
		{"tracepoint/syscalls/sys_enter_read", "syscalls", "sys_enter_read", true},
		{"tp/sock/inet_sock_set_state", "sock", "inet_sock_set_state", true},
		{"kprobe/tcp_sendmsg", "", "", false},
		{"tracepoint/syscalls", "", "", false},
	}
	for _, tc := range cases {
		group, event, ok := tracepointOf(tc.section)
		if ok != tc.ok || (ok && (group != tc.group || event != tc.event)) {
			t.Fatalf("%s: got (%q, %q, %v)", tc.section, group, event, ok)
		}
	}
}
