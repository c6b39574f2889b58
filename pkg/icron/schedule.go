package icron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse accepts standard five-field expressions and descriptors such as "@every 60s".
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

type TriggerInfo struct {
	Next       time.Time
	Expression string

	TimeUntilNext time.Duration
}

func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	next := schedule.Next(refTime)
	return &TriggerInfo{
		Expression:    cronExpr,
		Next:          next,
		TimeUntilNext: next.Sub(refTime),
	}, nil
}
