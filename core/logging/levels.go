package logging

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var levelLetters = map[byte]zapcore.Level{
	'V': zap.DebugLevel,
	'D': zap.DebugLevel,
	'I': zap.InfoLevel,
	'W': zap.WarnLevel,
	'E': zap.ErrorLevel,
	'F': zap.DPanicLevel,
	'N': zap.DPanicLevel,
}

// PkgLevel represents log level of a package.
type PkgLevel struct {
	pkg string
	lvl byte
	al  zap.AtomicLevel
}

// Package returns package name.
func (pl PkgLevel) Package() string {
	return pl.pkg
}

// Level returns log level as a letter.
func (pl PkgLevel) Level() byte {
	return pl.lvl
}

// SetLevel assigns log level.
// The first letter of input selects the level: V/D=debug, I=info, W=warn, E=error, F/N=fatal.
// Anything else selects info.
func (pl *PkgLevel) SetLevel(input string) {
	pl.lvl = 'I'
	if len(input) > 0 {
		if _, ok := levelLetters[input[0]]; ok {
			pl.lvl = input[0]
		}
	}
	pl.al.SetLevel(levelLetters[pl.lvl])
}

var (
	pkgLevelsLock sync.Mutex
	pkgLevels     = map[string]*PkgLevel{}
)

// ListLevels returns all package levels, sorted by package name.
func ListLevels() (list []PkgLevel) {
	pkgLevelsLock.Lock()
	defer pkgLevelsLock.Unlock()
	for _, pl := range pkgLevels {
		list = append(list, *pl)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].pkg < list[j].pkg })
	return list
}

// GetLevel finds or creates package log level object.
func GetLevel(pkg string) (pl *PkgLevel) {
	pkgLevelsLock.Lock()
	defer pkgLevelsLock.Unlock()
	pl = pkgLevels[pkg]
	if pl == nil {
		pl = &PkgLevel{
			pkg: pkg,
			al:  zap.NewAtomicLevel(),
		}
		pl.SetLevel(envLevel(pkg))
		pkgLevels[pkg] = pl
	}
	return pl
}

// Adjust changes log level of a package that has created its logger.
func Adjust(pkg, input string) error {
	pkgLevelsLock.Lock()
	defer pkgLevelsLock.Unlock()
	pl := pkgLevels[pkg]
	if pl == nil {
		return fmt.Errorf("package %s has no logger", pkg)
	}
	pl.SetLevel(input)
	return nil
}

func envLevel(pkg string) string {
	v, ok := os.LookupEnv("TSBRIDGE_LOG_" + pkg)
	if !ok {
		v = os.Getenv("TSBRIDGE_LOG")
	}
	return v
}
