// Package version хранит сведения о сборке, заполняемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/coffee-oms/internal/version.version=v1.4.0"
package version

import (
	"fmt"
	"strings"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const serviceName = "coffee-oms"

// Build: сведения о сборке.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

func (b Build) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", serviceName, b.Version, b.Commit, b.Date)
}

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// ClientID: client.id для Kafka. Брокер принимает только [A-Za-z0-9._-],
// остальные символы версии (например "+dirty") заменяются на '_'.
func ClientID() string {
	return serviceName + "-" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, version)
}
