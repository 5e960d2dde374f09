// Package escalation maps a subject's warn count to a punishment.
package escalation

import (
	"fmt"
	"time"

	"github.com/rainbot/rainbot/internal/models"
)

// Upcoming is the next threshold the subject has not reached yet.
type Upcoming struct {
	AtCount  int
	Action   models.PunishmentAction
	Duration *time.Duration
}

type Decision struct {
	PunishNow *models.PunishmentSpec
	Upcoming  *Upcoming
}

// Decide picks the punishment for count. An exact threshold match punishes
// now, the largest such threshold winning. Otherwise the smallest threshold
// above count is reported as upcoming.
func Decide(count int, thresholds []models.WarnPunishment) Decision {
	var exact, next *models.WarnPunishment
	for i := range thresholds {
		t := &thresholds[i]
		switch {
		case t.WarnNumber == count:
			if exact == nil || t.WarnNumber > exact.WarnNumber {
				exact = t
			}
		case t.WarnNumber > count:
			if next == nil || t.WarnNumber < next.WarnNumber {
				next = t
			}
		}
	}

	if exact != nil {
		spec := exact.Spec()
		return Decision{PunishNow: &spec}
	}
	if next != nil {
		return Decision{Upcoming: &Upcoming{
			AtCount:  next.WarnNumber,
			Action:   next.Punishment,
			Duration: next.Spec().Duration(),
		}}
	}
	return Decision{}
}

// Describe renders the upcoming step for a subject notification.
func (u *Upcoming) Describe() string {
	if u == nil {
		return ""
	}
	what := string(u.Action)
	if u.Duration != nil {
		what = fmt.Sprintf("%s for %s", u.Action, *u.Duration)
	}
	return fmt.Sprintf("On warning %d you will receive a %s.", u.AtCount, what)
}
