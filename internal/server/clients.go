package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/ledgerline/internal/models"
	"github.com/zulandar/ledgerline/internal/tenant"
	"gorm.io/gorm"
)

type clientRequest struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	TaxID   string `json:"taxId"`
	Address string `json:"address"`
}

func handleClientList() gin.HandlerFunc {
	return func(c *gin.Context) {
		var clients []models.Client
		if err := tenant.DB(c).WithContext(c.Request.Context()).Order("id ASC").Find(&clients).Error; err != nil {
			internalError(c, "list clients", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"companyId": tenant.CompanyID(c), "clients": clients})
	}
}

func handleClientCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req clientRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}

		// The company comes from the request context, never the body.
		client := models.Client{
			CompanyID: tenant.CompanyID(c),
			Name:      req.Name,
			Email:     req.Email,
			Phone:     req.Phone,
			TaxID:     req.TaxID,
			Address:   req.Address,
		}
		if err := tenant.DB(c).WithContext(c.Request.Context()).Create(&client).Error; err != nil {
			internalError(c, "create client", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"companyId": client.CompanyID, "client": client})
	}
}

func handleClientGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := loadClient(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"companyId": tenant.CompanyID(c), "client": client})
	}
}

func handleClientUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		client, ok := loadClient(c)
		if !ok {
			return
		}
		var req clientRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}

		err := tenant.DB(c).WithContext(c.Request.Context()).Model(&client).Updates(map[string]interface{}{
			"name":    req.Name,
			"email":   req.Email,
			"phone":   req.Phone,
			"tax_id":  req.TaxID,
			"address": req.Address,
		}).Error
		if err != nil {
			internalError(c, "update client", err)
			return
		}
		client.Name, client.Email, client.Phone = req.Name, req.Email, req.Phone
		client.TaxID, client.Address = req.TaxID, req.Address
		c.JSON(http.StatusOK, gin.H{"companyId": tenant.CompanyID(c), "client": client})
	}
}

func handleClientDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "client")
		if !ok {
			return
		}
		result := tenant.DB(c).WithContext(c.Request.Context()).Delete(&models.Client{}, id)
		if result.Error != nil {
			internalError(c, "delete client", result.Error)
			return
		}
		if result.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"companyId": tenant.CompanyID(c), "deleted": id})
	}
}

// loadClient reads the :id client through the scoped handle. Another
// company's client reads as not found.
func loadClient(c *gin.Context) (models.Client, bool) {
	var client models.Client
	id, ok := idParam(c, "client")
	if !ok {
		return client, false
	}
	err := tenant.DB(c).WithContext(c.Request.Context()).First(&client, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
		return client, false
	}
	if err != nil {
		internalError(c, "load client", err)
		return client, false
	}
	return client, true
}

func internalError(c *gin.Context, op string, err error) {
	log.Printf("server: %s (company %d): %v", op, tenant.CompanyID(c), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
