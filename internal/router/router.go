// Package router wires HTTP routes to handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fleet-management/internal/auth"
	"github.com/iliyamo/fleet-management/internal/handler"
	"github.com/iliyamo/fleet-management/internal/middleware"
)

// RegisterRoutes registers routes that require no authentication. Currently
// it exposes only the health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the session endpoints. Register, login, refresh and
// logout do not require an access token; refresh and logout authenticate
// with the refresh token in the request body instead. The /v1/me endpoints
// require a valid access token but no particular role.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, authority *auth.Authority) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	me := e.Group("/v1/me")
	me.Use(middleware.JWTAuth(authority))
	me.GET("", a.Me)
	me.PATCH("", a.UpdateMe)
	me.POST("/password", a.ChangePassword)
}

// RegisterVehicles registers the fleet endpoints. Reads are open to any
// authenticated account; writes and driver assignment require the admin or
// fleet_manager role.
func RegisterVehicles(e *echo.Echo, v *handler.VehicleHandler, authority *auth.Authority) {
	g := e.Group("/v1/vehicles")
	g.Use(middleware.JWTAuth(authority))

	g.GET("", v.ListVehicles)
	g.GET("/:id", v.GetVehicle)

	manage := middleware.RequireRole("admin", "fleet_manager")
	g.POST("", v.CreateVehicle, manage)
	g.PUT("/:id", v.UpdateVehicle, manage)
	g.DELETE("/:id", v.DeleteVehicle, manage)
	g.POST("/:id/driver", v.AssignDriver, manage)
	g.DELETE("/:id/driver", v.UnassignDriver, manage)
}
