package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"shuttle_coordinator/internal/config"
	"shuttle_coordinator/internal/middleware"
	"shuttle_coordinator/internal/models"
)

type signupInput struct {
	Name          string  `json:"name" binding:"required"`
	Email         string  `json:"email" binding:"required,email"`
	Password      string  `json:"password" binding:"required"`
	Phone         string  `json:"phone"`
	Role          string  `json:"role"`
	HotelName     string  `json:"hotel_name"`
	HotelAddress  string  `json:"hotel_address"`
	HotelLat      float64 `json:"hotel_lat"`
	HotelLng      float64 `json:"hotel_lng"`
	DriverPhone   string  `json:"driver_phone"`
	LicenseNumber string  `json:"license_number"`
	HotelID       uint    `json:"hotel_id"`
}

func SignupUser(c *gin.Context) {
	var input signupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role, err := validateAndNormalizeRole(input.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	input.Role = role

	hashedPassword, err := hashPassword(input.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not hash password"})
		return
	}

	tx := config.DB.Begin()
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start transaction"})
		return
	}

	user, err := createUserRecord(tx, input, hashedPassword)
	if err != nil {
		tx.Rollback()
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			c.JSON(http.StatusConflict, gin.H{"error": "email already in use"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create user: " + err.Error()})
		return
	}

	err = createActorRecord(tx, &user, input)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, errBadActorInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create actor record: " + err.Error()})
		}
		return
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not commit transaction: " + err.Error()})
		return
	}

	token, err := middleware.GenerateToken(user.ID, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token": token,
		"user":  prepareUserResponse(user),
	})
}

func LoginUser(c *gin.Context) {
	var body struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	query := config.DB.Where("email = ?", body.Email).
		Preload("Hotel").
		Preload("Driver").
		Preload("Driver.Hotel")

	if err := query.First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found or invalid credentials"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error: " + err.Error()})
		}
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(body.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect password"})
		return
	}

	token, err := middleware.GenerateToken(user.ID, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  prepareUserResponse(user),
	})
}

var errBadActorInput = errors.New("invalid actor input")

func validateAndNormalizeRole(roleInput string) (string, error) {
	role := strings.ToLower(strings.TrimSpace(roleInput))
	if role == "" {
		role = "guest"
	}
	switch role {
	case "guest", "driver", "frontdesk", "hotel":
		return role, nil
	default:
		return "", errors.New("invalid role")
	}
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func createUserRecord(tx *gorm.DB, input signupInput, hashedPassword string) (models.User, error) {
	user := models.User{
		Name:     input.Name,
		Email:    input.Email,
		Password: hashedPassword,
		Phone:    input.Phone,
		Role:     input.Role,
	}
	if err := tx.Create(&user).Error; err != nil {
		return models.User{}, err
	}
	return user, nil
}

func hotelExists(tx *gorm.DB, hotelID uint) error {
	var hotel models.Hotel
	if result := tx.First(&hotel, hotelID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return errors.Join(errBadActorInput, errors.New("hotel with the provided hotel_id does not exist"))
		}
		return result.Error
	}
	return nil
}

func createActorRecord(tx *gorm.DB, user *models.User, input signupInput) error {
	switch user.Role {
	case "hotel":
		if input.HotelName == "" {
			return errors.Join(errBadActorInput, errors.New("hotel_name is required for hotel role"))
		}

		hotel := models.Hotel{
			UserID:  user.ID,
			Name:    input.HotelName,
			Email:   input.Email,
			Phone:   input.Phone,
			Address: input.HotelAddress,
			Lat:     input.HotelLat,
			Lng:     input.HotelLng,
		}
		if err := tx.Create(&hotel).Error; err != nil {
			return err
		}
		user.Hotel = &hotel
		if err := tx.Save(user).Error; err != nil {
			return err
		}
	case "driver":
		if input.LicenseNumber == "" {
			return errors.Join(errBadActorInput, errors.New("license_number is required for driver role"))
		}
		if input.HotelID == 0 {
			return errors.Join(errBadActorInput, errors.New("driver must be assigned to a hotel_id"))
		}
		if err := hotelExists(tx, input.HotelID); err != nil {
			return err
		}

		driver := models.Driver{
			UserID:        user.ID,
			Name:          input.Name,
			Phone:         input.DriverPhone,
			LicenseNumber: input.LicenseNumber,
			HotelID:       input.HotelID,
		}
		if err := tx.Create(&driver).Error; err != nil {
			return err
		}
		user.Driver = &driver
		if err := tx.Save(user).Error; err != nil {
			return err
		}
	case "frontdesk":
		if input.HotelID == 0 {
			return errors.Join(errBadActorInput, errors.New("frontdesk staff must be assigned to a hotel_id"))
		}
		if err := hotelExists(tx, input.HotelID); err != nil {
			return err
		}

		user.HotelID = input.HotelID
		if err := tx.Save(user).Error; err != nil {
			return err
		}
	}
	return nil
}

func prepareUserResponse(user models.User) gin.H {
	responseUser := gin.H{
		"ID":        user.ID,
		"CreatedAt": user.CreatedAt,
		"UpdatedAt": user.UpdatedAt,
		"name":      user.Name,
		"email":     user.Email,
		"phone":     user.Phone,
		"role":      user.Role,
	}

	if user.HotelID != 0 {
		responseUser["hotel_id"] = user.HotelID
	}
	if user.Hotel != nil {
		responseUser["hotel"] = gin.H{
			"ID":        user.Hotel.ID,
			"CreatedAt": user.Hotel.CreatedAt,
			"UpdatedAt": user.Hotel.UpdatedAt,
			"name":      user.Hotel.Name,
			"email":     user.Hotel.Email,
			"phone":     user.Hotel.Phone,
			"address":   user.Hotel.Address,
		}
		responseUser["hotel_id"] = user.Hotel.ID
	}
	if user.Driver != nil {
		driverMap := gin.H{
			"ID":             user.Driver.ID,
			"CreatedAt":      user.Driver.CreatedAt,
			"UpdatedAt":      user.Driver.UpdatedAt,
			"name":           user.Driver.Name,
			"phone":          user.Driver.Phone,
			"license_number": user.Driver.LicenseNumber,
			"hotel_id":       user.Driver.HotelID,
		}
		if user.Driver.Hotel.ID != 0 {
			driverMap["hotel"] = gin.H{
				"ID":   user.Driver.Hotel.ID,
				"name": user.Driver.Hotel.Name,
			}
		}
		responseUser["driver"] = driverMap
		if user.Driver.HotelID != 0 {
			responseUser["hotel_id"] = user.Driver.HotelID
		}
	}
	return responseUser
}
