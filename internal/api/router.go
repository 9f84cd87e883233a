package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/erazemk/fieldstock/internal/model"
)

// Options tunes the router.
type Options struct {
	// AmendWindow is how long technicians may amend a completed order.
	AmendWindow time.Duration

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, jwtSecret string, opts Options) http.Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret}
	usersHandler := &UsersHandler{DB: db}
	locationsHandler := &LocationsHandler{DB: db}
	ledgerHandler := &LedgerHandler{DB: db}
	transfersHandler := &TransfersHandler{DB: db}
	batchesHandler := &BatchesHandler{DB: db}
	ordersHandler := &OrdersHandler{DB: db, AmendWindow: opts.AmendWindow, Now: opts.Now}

	authMW := AuthMiddleware(jwtSecret, db)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireSupervisor := RequireRole(model.RoleAdmin, model.RoleCoordinator)
	requireStock := RequireRole(model.RoleAdmin, model.RoleCoordinator, model.RoleWarehouseman)
	requireTechnician := RequireRole(model.RoleTechnician)
	requireSettler := RequireRole(model.RoleAdmin, model.RoleCoordinator, model.RoleTechnician)

	handle := func(pattern string, h http.HandlerFunc, gates ...func(http.Handler) http.Handler) {
		var next http.Handler = h
		for i := len(gates) - 1; i >= 0; i-- {
			next = gates[i](next)
		}
		mux.Handle(pattern, authMW(next))
	}

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	handle("PUT /api/auth/password", authHandler.ChangePassword)
	handle("POST /api/auth/logout", authHandler.Logout)

	// Users (admin only).
	handle("GET /api/users", usersHandler.List, requireAdmin)
	handle("POST /api/users", usersHandler.Create, requireAdmin)
	handle("GET /api/users/{id}", usersHandler.Get, requireAdmin)
	handle("PUT /api/users/{id}", usersHandler.Update, requireAdmin)
	handle("PUT /api/users/{id}/locations", usersHandler.SetLocations, requireAdmin)
	handle("PUT /api/users/{id}/password", usersHandler.ResetPassword, requireAdmin)
	handle("DELETE /api/users/{id}", usersHandler.Delete, requireAdmin)

	// Locations and material definitions: read (all), write (supervisors).
	handle("GET /api/locations", locationsHandler.List)
	handle("POST /api/locations", locationsHandler.Create, requireSupervisor)
	handle("DELETE /api/locations/{id}", locationsHandler.Delete, requireSupervisor)
	handle("GET /api/materials", locationsHandler.ListDefinitions)
	handle("POST /api/materials", locationsHandler.CreateDefinition, requireSupervisor)

	// Ledger.
	handle("GET /api/stock", ledgerHandler.LocationStock)
	handle("POST /api/stock/devices", ledgerHandler.ReceiveDevice, requireStock)
	handle("POST /api/stock/materials", ledgerHandler.ReceiveMaterial, requireStock)
	handle("POST /api/operator-returns", ledgerHandler.ReturnToOperator, requireStock)
	handle("GET /api/technicians/{id}/stock", ledgerHandler.TechnicianStock)
	handle("GET /api/items/{id}", ledgerHandler.Get)
	handle("GET /api/items/{id}/history", ledgerHandler.History)
	handle("POST /api/items/{id}/issue", ledgerHandler.Issue, requireStock)
	handle("POST /api/items/{id}/return", ledgerHandler.Return, requireStock)
	handle("PUT /api/items/{id}/photo", ledgerHandler.UploadPhoto)
	handle("GET /api/items/{id}/photo", ledgerHandler.GetPhoto)

	// Technician transfers.
	handle("POST /api/transfers", transfersHandler.Create, requireTechnician)
	handle("GET /api/transfers", transfersHandler.List)
	handle("GET /api/transfers/{id}", transfersHandler.Get)
	handle("POST /api/transfers/{id}/confirm", transfersHandler.Confirm, requireTechnician)
	handle("POST /api/transfers/{id}/reject", transfersHandler.Reject, requireTechnician)
	handle("POST /api/transfers/{id}/cancel", transfersHandler.Cancel, requireTechnician)

	// Location batches.
	handle("POST /api/batches", batchesHandler.Create, requireStock)
	handle("GET /api/batches", batchesHandler.List, requireStock)
	handle("GET /api/batches/{id}", batchesHandler.Get, requireStock)
	handle("POST /api/batches/{id}/confirm", batchesHandler.Confirm, requireStock)
	handle("POST /api/batches/{id}/reject", batchesHandler.Reject, requireStock)
	handle("POST /api/batches/{id}/cancel", batchesHandler.Cancel, requireStock)

	// Orders.
	handle("GET /api/orders", ordersHandler.List)
	handle("POST /api/orders", ordersHandler.Create, requireSupervisor)
	handle("GET /api/orders/{id}", ordersHandler.Get)
	handle("GET /api/orders/{id}/history", ordersHandler.History)
	handle("PUT /api/orders/{id}/assign", ordersHandler.Assign, requireSupervisor)
	handle("POST /api/orders/{id}/cancel", ordersHandler.Cancel, requireSupervisor)
	handle("POST /api/orders/{id}/consume", ordersHandler.Consume, requireSettler)
	handle("POST /api/orders/{id}/collect", ordersHandler.Collect, requireSettler)
	handle("POST /api/orders/{id}/complete", ordersHandler.Complete, requireSettler)
	handle("PUT /api/orders/{id}/settlement", ordersHandler.Amend, requireSettler)

	return mux
}
