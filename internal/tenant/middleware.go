package tenant

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/ledgerline/internal/auth"
	"github.com/zulandar/ledgerline/internal/db"
	"github.com/zulandar/ledgerline/internal/models"
	"gorm.io/gorm"
)

const contextKey = "ledgerline.tenant"

// Context is what downstream handlers see for one request.
type Context struct {
	CompanyID uint
	Source    string
	DB        *gorm.DB // scoped to CompanyID
}

// MiddlewareOpts configures Middleware.
type MiddlewareOpts struct {
	DB       *gorm.DB
	Resolver Resolver
	Header   string // named in the hint of a missing-context response
}

// Middleware resolves the request's company and attaches a scoped handle.
// Requests that cannot be resolved are aborted before any later handler runs.
func Middleware(opts MiddlewareOpts) (gin.HandlerFunc, error) {
	if opts.DB == nil {
		return nil, errors.New("tenant: db is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("tenant: resolver is required")
	}
	if opts.Header == "" {
		opts.Header = "X-Company-Id"
	}
	hint := fmt.Sprintf("Add %s header", opts.Header)

	return func(c *gin.Context) {
		res := opts.Resolver.Resolve(c)

		switch res.State {
		case StateMissing:
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Company context required",
				"hint":  hint,
			})
			return
		case StateInvalid:
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Invalid company context",
				"hint":  res.Reason,
			})
			return
		case StateFailed:
			log.Printf("tenant: resolve via %s: %v", res.Source, res.Err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		// A token bound to a company cannot be pointed at another one.
		if p, ok := auth.PrincipalFrom(c); ok && p.CompanyID != nil && *p.CompanyID != 0 && *p.CompanyID != res.CompanyID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Company context does not match token",
				"hint":  fmt.Sprintf("Token is bound to company %d", *p.CompanyID),
			})
			return
		}

		var company models.Company
		err := opts.DB.WithContext(c.Request.Context()).Select("id").First(&company, res.CompanyID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Company not found"})
			return
		}
		if err != nil {
			log.Printf("tenant: load company %d: %v", res.CompanyID, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.Set(contextKey, Context{
			CompanyID: res.CompanyID,
			Source:    res.Source,
			DB:        db.Scoped(opts.DB, res.CompanyID),
		})
		c.Next()
	}, nil
}

// FromContext returns the tenant context attached by Middleware.
func FromContext(c *gin.Context) (Context, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return Context{}, false
	}
	tc, ok := v.(Context)
	return tc, ok
}

// CompanyID returns the resolved company id, or 0 outside the scoped group.
func CompanyID(c *gin.Context) uint {
	tc, _ := FromContext(c)
	return tc.CompanyID
}

// DB returns the company-scoped handle, or nil outside the scoped group.
func DB(c *gin.Context) *gorm.DB {
	tc, _ := FromContext(c)
	return tc.DB
}
