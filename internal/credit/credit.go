// Package credit manages loans for one borrower: origination with an
// up-front fee, interest accrued on a fixed cadence, a warning window
// before maturity, and forced repayment at maturity with any shortfall
// carried as an overdue balance.
package credit

import (
	"github.com/google/uuid"

	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
	"github.com/newthinker/marketsim/internal/portfolio"
)

// Loan is one outstanding loan.
type Loan struct {
	ID string `json:"id"`
	// Seq is a small display number, stable for the borrower's lifetime.
	Seq       int     `json:"seq"`
	Principal float64 `json:"principal"`
	// Balance is the amount still owed, including accrued interest.
	Balance         float64 `json:"balance"`
	TotalCycles     int     `json:"total_cycles"`
	RemainingCycles int     `json:"remaining_cycles"`
	// Overdue marks a loan that matured without full repayment; the
	// remaining balance keeps accruing interest.
	Overdue       bool `json:"overdue"`
	OverdueCycles int  `json:"overdue_cycles"`
	WarnShown     bool `json:"warn_shown"`
}

// EventKind classifies loan lifecycle events for notification routing.
type EventKind int

const (
	EventWarn EventKind = iota
	EventRepaid
	EventOverdue
	EventInterest
)

// Event is one loan lifecycle occurrence surfaced to the caller.
type Event struct {
	Kind   EventKind
	Loan   *Loan
	Amount float64
}

// Book holds one borrower's loans.
type Book struct {
	cfg   config.CreditConfig
	loans []*Loan
	seq   int
	// cyclesSinceInterest drives the accrual cadence.
	cyclesSinceInterest int
}

// NewBook creates an empty loan book.
func NewBook(cfg config.CreditConfig) *Book {
	return &Book{cfg: cfg}
}

// Request originates a loan. The origination fee is withheld from the
// disbursement, so the borrower receives amount*(1-fee) in cash but owes
// the full amount.
func (b *Book) Request(p *portfolio.Portfolio, amount float64) (*Loan, error) {
	if amount <= 0 || amount > b.cfg.MaxAmount {
		return nil, core.ErrInvalidAmount
	}
	if len(b.loans) >= b.cfg.MaxLoans {
		return nil, core.ErrLoanLimit
	}

	b.seq++
	loan := &Loan{
		ID:              uuid.NewString(),
		Seq:             b.seq,
		Principal:       amount,
		Balance:         amount,
		TotalCycles:     b.cfg.DurationCycles,
		RemainingCycles: b.cfg.DurationCycles,
	}
	b.loans = append(b.loans, loan)
	p.Cash += amount * (1 - b.cfg.FeeRate)
	return loan, nil
}

// Repay pays down a loan early from unreserved cash. Paying the full
// balance removes the loan.
func (b *Book) Repay(p *portfolio.Portfolio, id string, amount float64) error {
	loan := b.find(id)
	if loan == nil {
		return core.ErrLoanNotFound
	}
	if amount <= 0 {
		return core.ErrInvalidAmount
	}
	if amount > loan.Balance {
		amount = loan.Balance
	}
	if amount > p.AvailableCash() {
		return core.ErrInsufficientCash
	}

	p.Cash -= amount
	loan.Balance -= amount
	if loan.Balance <= 1e-9 {
		b.drop(loan.ID)
	}
	return nil
}

// AccrueInterest advances the cadence counter and, when it fires, charges
// interest on every balance. Interest is taken from cash when available
// and capitalized into the balance otherwise.
func (b *Book) AccrueInterest(p *portfolio.Portfolio) []Event {
	b.cyclesSinceInterest++
	if b.cyclesSinceInterest < b.cfg.InterestCadence {
		return nil
	}
	b.cyclesSinceInterest = 0

	var events []Event
	for _, loan := range b.loans {
		interest := loan.Balance * b.cfg.InterestRate
		if interest <= 0 {
			continue
		}
		if p.Cash >= interest {
			p.Cash -= interest
			if p.ReservedCash > p.Cash {
				p.ReservedCash = p.Cash
			}
		} else {
			loan.Balance += interest
		}
		events = append(events, Event{Kind: EventInterest, Loan: loan, Amount: interest})
	}
	return events
}

// ProcessMaturities force-repays loans that reach maturity, then counts
// the survivors down one cycle and warns inside the warning window.
// Repayment takes whatever cash exists; a shortfall leaves the loan
// overdue with the remainder.
func (b *Book) ProcessMaturities(p *portfolio.Portfolio) []Event {
	var events []Event

	for _, loan := range b.loans {
		if loan.Overdue {
			loan.OverdueCycles++
			continue
		}

		// Maturity resolves before the countdown moves: pay what the
		// cash covers, reservations included.
		if loan.RemainingCycles <= 1 {
			loan.RemainingCycles = 0
			paid := loan.Balance
			if paid > p.Cash {
				paid = p.Cash
			}
			p.Cash -= paid
			loan.Balance -= paid
			if p.ReservedCash > p.Cash {
				p.ReservedCash = p.Cash
			}

			if loan.Balance <= 1e-9 {
				events = append(events, Event{Kind: EventRepaid, Loan: loan, Amount: paid})
			} else {
				loan.Overdue = true
				events = append(events, Event{Kind: EventOverdue, Loan: loan, Amount: paid})
			}
			continue
		}

		loan.RemainingCycles--
		if !loan.WarnShown && loan.RemainingCycles <= b.cfg.WarnCycles {
			loan.WarnShown = true
			events = append(events, Event{Kind: EventWarn, Loan: loan})
		}
	}

	// Drop the fully repaid loans.
	kept := b.loans[:0]
	for _, loan := range b.loans {
		if loan.Balance > 1e-9 {
			kept = append(kept, loan)
		}
	}
	b.loans = kept
	return events
}

// Get returns a loan by id.
func (b *Book) Get(id string) (*Loan, bool) {
	loan := b.find(id)
	return loan, loan != nil
}

// All returns the loans in origination order.
func (b *Book) All() []*Loan {
	return b.loans
}

// Debt is the total owed across all loans.
func (b *Book) Debt() float64 {
	var total float64
	for _, loan := range b.loans {
		total += loan.Balance
	}
	return total
}

// Len returns the number of outstanding loans.
func (b *Book) Len() int {
	return len(b.loans)
}

func (b *Book) find(id string) *Loan {
	for _, loan := range b.loans {
		if loan.ID == id {
			return loan
		}
	}
	return nil
}

func (b *Book) drop(id string) {
	for i, loan := range b.loans {
		if loan.ID == id {
			b.loans = append(b.loans[:i], b.loans[i+1:]...)
			return
		}
	}
}

// Snapshot captures the book for persistence.
type Snapshot struct {
	Loans               []*Loan `json:"loans"`
	Seq                 int     `json:"seq"`
	CyclesSinceInterest int     `json:"cycles_since_interest"`
}

// Snapshot returns the book's persistable state.
func (b *Book) Snapshot() Snapshot {
	return Snapshot{Loans: b.loans, Seq: b.seq, CyclesSinceInterest: b.cyclesSinceInterest}
}

// Restore replaces the book wholesale from snapshot data.
func (b *Book) Restore(s Snapshot) {
	b.loans = s.Loans
	b.seq = s.Seq
	b.cyclesSinceInterest = s.CyclesSinceInterest
}
