package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// LNURL discovery surface; payers hit these without credentials.
	r.Get("/encode", handler.Encode)
	r.Get("/decode", handler.Decode)
	r.Get("/.well-known/lnurlp/{username}", handler.PayRequest)
	r.Get("/lnurl/verify/{id}", handler.Verify)
	r.Get("/lnurl/{id}", handler.Callback)

	// Wallet notifications come from the node, not a user session.
	r.Post("/bitcoin", handler.BitcoinObservation)

	r.Group(func(r chi.Router) {
		r.Use(handler.Auth)
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", handler.CreatePayment)
			r.Get("/", handler.ListPayments)
			r.Post("/parse", handler.ParsePayReq)
			r.Get("/{hash}", handler.GetPayment)
		})
		r.Post("/invoices", handler.CreateInvoice)
		r.Get("/pot/{name}", handler.Pot)
		r.Post("/take", handler.Take)
		r.Post("/fee", handler.Fee)
		r.Post("/send", handler.Send)
		r.Post("/ecash/claim", handler.Claim)
		r.Post("/ecash/mint", handler.Mint)
		r.Post("/ecash/melt", handler.Melt)
	})

	return &Server{Router: r}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
