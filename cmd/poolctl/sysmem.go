package main

import (
	humanize "github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	sigar "github.com/cloudfoundry/gosigar"
)

// checkMemory warns when a pool needing size bytes does not fit in the free memory of the host.
func checkMemory(log *logrus.Logger, size int) {
	mem := sigar.Mem{}
	if err := mem.Get(); err != nil {
		log.WithError(err).Debug("unable to read host memory")
		return
	}
	fields := logrus.Fields{
		"need": humanize.IBytes(uint64(size)),
		"free": humanize.IBytes(mem.ActualFree),
	}
	if uint64(size) > mem.ActualFree {
		log.WithFields(fields).Warn("pool does not fit in free host memory")
		return
	}
	log.WithFields(fields).Debug("host memory check passed")
}
