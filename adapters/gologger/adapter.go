package gologger

import (
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const rootName = "qbexport"

// Component loggers handed to each pipeline stage.
const (
	ComponentAuth       = "auth"
	ComponentTokens     = "tokens"
	ComponentPagination = "pagination"
	ComponentExport     = "export"
	ComponentJobs       = "jobs"
)

// Components hands out named child loggers. A provider wins over a plain
// logger, and with neither every component gets a nop logger.
type Components struct {
	provider glog.LoggerProvider
	root     glog.Logger
	named    bool
}

func NewComponents(provider glog.LoggerProvider, logger glog.Logger) *Components {
	resolvedProvider, resolvedLogger := glog.Resolve(rootName, provider, logger)
	return &Components{provider: resolvedProvider, root: resolvedLogger, named: provider != nil}
}

// Root is the logger for the service itself.
func (c *Components) Root() glog.Logger {
	if c == nil || c.root == nil {
		return glog.Nop()
	}
	return c.root
}

func (c *Components) Provider() glog.LoggerProvider {
	if c == nil {
		return nil
	}
	return c.provider
}

// For returns the logger named qbexport.<component>.
func (c *Components) For(component string) glog.Logger {
	if c == nil {
		return glog.Nop()
	}
	component = strings.TrimSpace(component)
	if component == "" || !c.named || c.provider == nil {
		return c.Root()
	}
	if logger := c.provider.GetLogger(rootName + "." + component); logger != nil {
		return logger
	}
	return c.Root()
}
