// Cached SQL Policy Adapter for Casbin - Policy Administration Server
// Copyright (c) 2024 Cached SQL Policy Adapter for Casbin
// Licensed under the MIT License. See LICENSE file for details.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	adapter "casbin-cache-adapter"
	"casbin-cache-adapter/cache"
)

// RBAC model definition used by the policy server
const rbacModel = `[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act`

// EnforceRequest represents an authorization enforcement request
type EnforceRequest struct {
	Subject string `json:"subject"`
	Object  string `json:"object"`
	Action  string `json:"action"`
}

// PolicyRequest represents a policy management request
type PolicyRequest struct {
	Subject string `json:"subject"`
	Object  string `json:"object"`
	Action  string `json:"action"`
}

// RoleRequest represents a role assignment request
type RoleRequest struct {
	User string `json:"user"`
	Role string `json:"role"`
}

// PolicyService wires the enforcer to the cached adapter.
type PolicyService struct {
	enforcer *casbin.Enforcer
	cached   *adapter.CachedAdapter
	log      *zap.SugaredLogger
}

// NewPolicyService builds the adapter stack and the enforcer from environment
// configuration. Without REDIS_ADDR the cache layer falls back to an
// in-process cache.
func NewPolicyService(log *zap.SugaredLogger) (*PolicyService, error) {
	driver := envOr("DB_DRIVER", "sqlite")
	dsn := envOr("DB_DSN", "casbin.db")
	table := os.Getenv("POLICY_TABLE")

	plain, err := adapter.NewAdapter(driver, dsn, table)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy adapter: %v", err)
	}
	plain.SetLogger(log)

	ttl := adapter.DefaultCacheTTL
	if raw := os.Getenv("CACHE_TTL_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid CACHE_TTL_SECONDS: %v", err)
		}
		ttl = time.Duration(secs) * time.Second
	}

	var backend cache.Cache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisDB := 0
		if raw := os.Getenv("REDIS_DB"); raw != "" {
			redisDB, err = strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid REDIS_DB: %v", err)
			}
		}
		backend, err = cache.NewRedisCache(context.Background(), cache.RedisConfig{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %v", err)
		}
		log.Infof("policy cache backed by redis at %s", addr)
	} else {
		backend = cache.NewMemoryCache(ttl)
		log.Infof("policy cache running in-process")
	}

	cached := adapter.NewCachedAdapter(plain, backend, adapter.CacheConfig{
		TTL:       ttl,
		KeyPrefix: os.Getenv("CACHE_KEY_PREFIX"),
	})

	rbacModelObj, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create RBAC model: %v", err)
	}
	enforcer, err := casbin.NewEnforcer(rbacModelObj, cached)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %v", err)
	}

	return &PolicyService{enforcer: enforcer, cached: cached, log: log}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *PolicyService) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *PolicyService) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "casbin-policy-server",
		"model":   "rbac",
		"cache":   "enabled",
	})
}

func (s *PolicyService) enforceHandler(w http.ResponseWriter, r *http.Request) {
	var request EnforceRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if request.Subject == "" || request.Object == "" || request.Action == "" {
		http.Error(w, "subject, object, and action are required", http.StatusBadRequest)
		return
	}

	allowed, err := s.enforcer.Enforce(request.Subject, request.Object, request.Action)
	if err != nil {
		http.Error(w, fmt.Sprintf("Enforcement failed: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"allowed": allowed,
		"subject": request.Subject,
		"object":  request.Object,
		"action":  request.Action,
	})
}

func (s *PolicyService) addPolicyHandler(w http.ResponseWriter, r *http.Request) {
	var request PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if request.Subject == "" || request.Object == "" || request.Action == "" {
		http.Error(w, "subject, object, and action are required", http.StatusBadRequest)
		return
	}

	added, err := s.enforcer.AddPolicy(request.Subject, request.Object, request.Action)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to add policy: %v", err), http.StatusInternalServerError)
		return
	}
	if !added {
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"added":   false,
			"message": "Policy already exists",
		})
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"added":  true,
		"policy": []string{request.Subject, request.Object, request.Action},
	})
}

func (s *PolicyService) getPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	policies, err := s.enforcer.GetPolicy()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get policies: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": policies,
		"count":    len(policies),
	})
}

func (s *PolicyService) deletePolicyHandler(w http.ResponseWriter, r *http.Request) {
	var request PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	removed, err := s.enforcer.RemovePolicy(request.Subject, request.Object, request.Action)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to remove policy: %v", err), http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, "Policy not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"removed": true})
}

func (s *PolicyService) addRoleHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	var request RoleRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if request.Role == "" {
		http.Error(w, "role is required", http.StatusBadRequest)
		return
	}

	added, err := s.enforcer.AddGroupingPolicy(userID, request.Role)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to add role: %v", err), http.StatusInternalServerError)
		return
	}
	if !added {
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"added":   false,
			"message": "Role assignment already exists",
		})
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"added": true,
		"user":  userID,
		"role":  request.Role,
	})
}

func (s *PolicyService) getRolesHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	roles, err := s.enforcer.GetRolesForUser(userID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get roles: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":  userID,
		"roles": roles,
	})
}

func (s *PolicyService) deleteRoleHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	removed, err := s.enforcer.RemoveGroupingPolicy(vars["userId"], vars["roleId"])
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to remove role: %v", err), http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, "Role assignment not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"removed": true})
}

// preheatHandler warms the full-snapshot cache entry so the first load after a
// restart does not pay the table scan.
func (s *PolicyService) preheatHandler(w http.ResponseWriter, r *http.Request) {
	warmed := s.cached.Preheat()
	status := http.StatusOK
	if !warmed {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]interface{}{"warmed": warmed})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs incoming HTTP requests
func loggingMiddleware(log *zap.SugaredLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debugf("%s %s %s", r.Method, r.RequestURI, r.RemoteAddr)
			next.ServeHTTP(w, r)
		})
	}
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	log := logger.Sugar()

	service, err := NewPolicyService(log)
	if err != nil {
		log.Fatalf("Failed to initialize policy service: %v", err)
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", service.healthHandler).Methods("GET")

	// Authorization endpoint
	api.HandleFunc("/authorizations", service.enforceHandler).Methods("POST")

	// Policy endpoints
	api.HandleFunc("/policies", service.addPolicyHandler).Methods("POST")
	api.HandleFunc("/policies", service.getPoliciesHandler).Methods("GET")
	api.HandleFunc("/policies", service.deletePolicyHandler).Methods("DELETE")

	// User role endpoints
	api.HandleFunc("/users/{userId}/roles", service.addRoleHandler).Methods("POST")
	api.HandleFunc("/users/{userId}/roles", service.getRolesHandler).Methods("GET")
	api.HandleFunc("/users/{userId}/roles/{roleId}", service.deleteRoleHandler).Methods("DELETE")

	// Cache management
	api.HandleFunc("/cache/preheat", service.preheatHandler).Methods("POST")

	router.Use(corsMiddleware)
	router.Use(loggingMiddleware(log))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := ":" + port
	log.Infof("Starting policy administration server on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
