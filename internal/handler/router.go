package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"wabroadcast/internal/middleware"
)

// Handlers groups every HTTP handler served by the api
type Handlers struct {
	Campaigns *CampaignHandler
	Contacts  *ContactHandler
	Templates *TemplateHandler
	Preview   *PreviewHandler
	Webhook   *WebhookHandler
	Health    *HealthHandler
}

// NewRouter wires routes and middleware
func NewRouter(h Handlers, log zerolog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Recovery)

	if h.Health != nil {
		router.HandleFunc("/health", h.Health.HandleHealth).Methods(http.MethodGet)
	}

	router.HandleFunc("/contacts", h.Contacts.Create).Methods(http.MethodPost)
	router.HandleFunc("/contacts", h.Contacts.List).Methods(http.MethodGet)
	router.HandleFunc("/contacts/{id}", h.Contacts.GetByID).Methods(http.MethodGet)
	router.HandleFunc("/contacts/{id}/subscription", h.Contacts.SetSubscription).Methods(http.MethodPatch)

	router.HandleFunc("/templates", h.Templates.Create).Methods(http.MethodPost)
	router.HandleFunc("/templates", h.Templates.List).Methods(http.MethodGet)
	router.HandleFunc("/templates/{id}", h.Templates.GetByID).Methods(http.MethodGet)

	router.HandleFunc("/campaigns", h.Campaigns.Create).Methods(http.MethodPost)
	router.HandleFunc("/campaigns", h.Campaigns.List).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id}", h.Campaigns.GetByID).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id}/contacts", h.Campaigns.AddContacts).Methods(http.MethodPost)
	router.HandleFunc("/campaigns/{id}/start", h.Campaigns.Start).Methods(http.MethodPost)
	router.HandleFunc("/campaigns/{id}/cancel", h.Campaigns.Cancel).Methods(http.MethodPost)
	router.HandleFunc("/campaigns/{id}/stats", h.Campaigns.Stats).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id}/messages", h.Campaigns.Messages).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id}/preview", h.Preview.Preview).Methods(http.MethodPost)
	router.HandleFunc("/messages/{id}", h.Campaigns.GetMessage).Methods(http.MethodGet)

	router.HandleFunc("/send-test", h.Preview.SendTest).Methods(http.MethodPost)

	router.HandleFunc("/webhook", h.Webhook.Verify).Methods(http.MethodGet)
	router.HandleFunc("/webhook", h.Webhook.Receive).Methods(http.MethodPost)

	return router
}
