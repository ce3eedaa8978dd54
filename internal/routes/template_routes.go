package routes

import (
	"github.com/gin-gonic/gin"

	"shuttle_coordinator/internal/controllers"
	"shuttle_coordinator/internal/middleware"
)

func TemplateRoutes(r *gin.Engine) {
	templates := r.Group("/templates")
	templates.Use(middleware.RequireRole("hotel", "frontdesk"))
	{
		templates.POST("", controllers.CreateTemplate)
		templates.GET("", controllers.ListTemplates)
		templates.GET("/:id", controllers.GetTemplate)
		templates.PUT("/:id", controllers.UpdateTemplate)
		templates.DELETE("/:id", controllers.DeleteTemplate)
	}
}
