package version

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
)

// Version is an opaque release tag such as "v1.7.5". Only equality is meaningful.
// The zero value means the version is unknown.
type Version string

func (v Version) IsUnset() bool {
	return v == ""
}

func (v Version) String() string {
	return string(v)
}

// Decision is the outcome of comparing the local and remote versions
type Decision string

const (
	NoAction Decision = "no_action"
	Upgrade  Decision = "upgrade"
)

// Decide returns Upgrade when current is unset or differs from latest.
func Decide(current, latest Version) Decision {
	if current.IsUnset() || current != latest {
		return Upgrade
	}
	return NoAction
}

// ParseVersionOutput extracts the version from the first line of a
// "--version" invocation, e.g. "Xray 1.8.4 (Xray, Penetrates Everything.) ...".
// The second field is taken and normalized to carry a "v" prefix.
func ParseVersionOutput(out []byte) (Version, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if !scanner.Scan() {
		return "", errors.NewParseError("empty version output", scanner.Err())
	}
	line := strings.TrimSpace(scanner.Text())

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", errors.NewParseError("version output has no version field", nil).WithContext("output", line)
	}

	token := strings.TrimPrefix(fields[1], "v")
	if _, err := semver.NewVersion(token); err != nil {
		return "", errors.NewParseError("malformed version token", err).WithContext("token", fields[1])
	}

	return Version("v" + token), nil
}
