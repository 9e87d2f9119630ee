package calendar

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/penciled/penciled/internal/calendar"

var logger = otelslog.NewLogger(scopeName)
