// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package enroll

import (
	"runtime"
	"strconv"
)

// Bindings merges the host's configured template variables with the
// built-ins every template can rely on. Configured variables win over
// built-ins of the same name.
func Bindings(host string, vars map[string]string) map[string]string {
	b := map[string]string{
		"hostname":  host,
		"cpu_count": strconv.Itoa(runtime.NumCPU()),
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
	}
	for k, v := range vars {
		b[k] = v
	}
	return b
}
