// Package tenant resolves which company a request operates on and attaches a
// company-scoped database handle to the request.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/ledgerline/internal/auth"
	"github.com/zulandar/ledgerline/internal/models"
	"gorm.io/gorm"
)

// State tags the outcome of a resolution attempt.
type State int

const (
	StateMissing State = iota
	StateResolved
	StateInvalid
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResolved:
		return "resolved"
	case StateInvalid:
		return "invalid"
	case StateFailed:
		return "failed"
	default:
		return "missing"
	}
}

// Resolution is the tagged result of a Resolver.
type Resolution struct {
	State     State
	CompanyID uint   // set when State == StateResolved
	Source    string // resolver that produced the result
	Reason    string // human-readable cause for StateInvalid
	Err       error  // cause for StateFailed
}

// Resolved reports a company id found by source.
func Resolved(id uint, source string) Resolution {
	return Resolution{State: StateResolved, CompanyID: id, Source: source}
}

// Missing reports that a resolver had nothing to say about the request.
func Missing() Resolution {
	return Resolution{State: StateMissing}
}

// Invalid reports a company identifier that was present but unusable.
func Invalid(source, reason string) Resolution {
	return Resolution{State: StateInvalid, Source: source, Reason: reason}
}

// Failed reports an internal error while resolving.
func Failed(source string, err error) Resolution {
	return Resolution{State: StateFailed, Source: source, Err: err}
}

// Resolver derives a company id from a request.
type Resolver interface {
	Name() string
	Resolve(c *gin.Context) Resolution
}

// HeaderResolver reads a positive integer company id from a request header.
type HeaderResolver struct {
	Header string
}

func (h HeaderResolver) Name() string { return "header" }

func (h HeaderResolver) Resolve(c *gin.Context) Resolution {
	raw := strings.TrimSpace(c.GetHeader(h.Header))
	if raw == "" {
		return Missing()
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return Invalid(h.Name(), fmt.Sprintf("%s must be a positive integer", h.Header))
	}
	return Resolved(uint(id), h.Name())
}

// PrincipalResolver uses the company bound into the caller's token, falling
// back to the user's persisted default company.
type PrincipalResolver struct {
	DB *gorm.DB
}

func (p PrincipalResolver) Name() string { return "principal" }

func (p PrincipalResolver) Resolve(c *gin.Context) Resolution {
	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		return Missing()
	}
	id, err := PrincipalCompany(c.Request.Context(), p.DB, principal)
	if err != nil {
		return Failed(p.Name(), err)
	}
	if id == 0 {
		return Missing()
	}
	return Resolved(id, p.Name())
}

// PrincipalCompany returns the company a principal acts for: the company
// bound into its token, else the user's persisted default company. It
// returns 0 when the principal has neither.
func PrincipalCompany(ctx context.Context, db *gorm.DB, principal auth.Principal) (uint, error) {
	if principal.CompanyID != nil && *principal.CompanyID != 0 {
		return *principal.CompanyID, nil
	}
	if db == nil {
		return 0, nil
	}

	var user models.User
	err := db.WithContext(ctx).
		Select("id", "default_company_id").
		First(&user, principal.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("tenant: load user %d: %w", principal.UserID, err)
	}
	if user.DefaultCompanyID == nil {
		return 0, nil
	}
	return *user.DefaultCompanyID, nil
}

// PrincipalLookup resolves a principal's company outside an HTTP request,
// using the same rules as PrincipalResolver.
type PrincipalLookup struct {
	DB *gorm.DB
}

// CompanyFor returns the principal's company, or 0 when it has none.
func (l PrincipalLookup) CompanyFor(ctx context.Context, principal auth.Principal) (uint, error) {
	return PrincipalCompany(ctx, l.DB, principal)
}

// Chain evaluates resolvers in order. The first result that is not Missing
// wins; if every resolver is Missing the chain is Missing.
type Chain []Resolver

func (ch Chain) Name() string {
	names := make([]string, len(ch))
	for i, r := range ch {
		names[i] = r.Name()
	}
	return strings.Join(names, ",")
}

func (ch Chain) Resolve(c *gin.Context) Resolution {
	for _, r := range ch {
		if res := r.Resolve(c); res.State != StateMissing {
			return res
		}
	}
	return Missing()
}

// NewChain builds a Chain from configured resolver names.
func NewChain(names []string, header string, db *gorm.DB) (Chain, error) {
	ch := make(Chain, 0, len(names))
	for _, name := range names {
		switch name {
		case "header":
			ch = append(ch, HeaderResolver{Header: header})
		case "principal":
			ch = append(ch, PrincipalResolver{DB: db})
		default:
			return nil, fmt.Errorf("tenant: unknown resolver %q", name)
		}
	}
	if len(ch) == 0 {
		return nil, errors.New("tenant: at least one resolver is required")
	}
	return ch, nil
}
