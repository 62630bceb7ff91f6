package domain

import (
	"fmt"
	"time"
)

// StatusKind is the persisted status column.
type StatusKind string

const (
	KindNew     StatusKind = "new"
	KindOffered StatusKind = "offered"
	KindSold    StatusKind = "sold"
	KindUnsold  StatusKind = "unsold"
)

// NoBuyer is the buyer index stored while a lead has never been offered.
const NoBuyer = -1

// Status is the lifecycle position of a lead.
// BuyerIndex is meaningful for offered and sold; SentAt only for offered.
type Status struct {
	Kind       StatusKind
	BuyerIndex int
	SentAt     time.Time
}

func StatusNew() Status { return Status{Kind: KindNew, BuyerIndex: NoBuyer} }

// StatusOffered truncates sentAt to the precision the ledger stores.
func StatusOffered(buyerIndex int, sentAt time.Time) Status {
	return Status{Kind: KindOffered, BuyerIndex: buyerIndex, SentAt: sentAt.UTC().Truncate(time.Microsecond)}
}

func StatusSold(buyerIndex int) Status { return Status{Kind: KindSold, BuyerIndex: buyerIndex} }

// StatusUnsold keeps the index of the last buyer that was offered the lead.
func StatusUnsold(lastBuyer int) Status { return Status{Kind: KindUnsold, BuyerIndex: lastBuyer} }

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s.Kind == KindSold || s.Kind == KindUnsold
}

// ExpiresAt is the end of the exclusivity window of an offered lead.
func (s Status) ExpiresAt(window time.Duration) time.Time {
	return s.SentAt.Add(window)
}

// Matches reports whether the current status satisfies an expected precondition.
// A zero expected.SentAt accepts any sentAt. Unsold matches on kind alone.
func (s Status) Matches(expected Status) bool {
	if s.Kind != expected.Kind {
		return false
	}
	switch s.Kind {
	case KindNew, KindUnsold:
		return true
	case KindSold:
		return s.BuyerIndex == expected.BuyerIndex
	case KindOffered:
		if s.BuyerIndex != expected.BuyerIndex {
			return false
		}
		return expected.SentAt.IsZero() || s.SentAt.Equal(expected.SentAt)
	}
	return false
}

func (s Status) String() string {
	switch s.Kind {
	case KindOffered, KindSold:
		return fmt.Sprintf("%s(%d)", s.Kind, s.BuyerIndex)
	default:
		return string(s.Kind)
	}
}

// CanTransition validates one step of the lifecycle:
//
//	new        -> offered(0)
//	offered(i) -> offered(i+1) | sold(i) | unsold
//
// sold and unsold have no exits.
func CanTransition(from, to Status) error {
	if from.IsTerminal() {
		return fmt.Errorf("lead is %s, no further transitions", from)
	}
	switch from.Kind {
	case KindNew:
		if to.Kind == KindOffered && to.BuyerIndex == 0 && !to.SentAt.IsZero() {
			return nil
		}
	case KindOffered:
		switch to.Kind {
		case KindOffered:
			if to.BuyerIndex == from.BuyerIndex+1 && !to.SentAt.IsZero() {
				return nil
			}
		case KindSold:
			if to.BuyerIndex == from.BuyerIndex {
				return nil
			}
		case KindUnsold:
			return nil
		}
	}
	return fmt.Errorf("transition %s -> %s not allowed", from, to)
}
