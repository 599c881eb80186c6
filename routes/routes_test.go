package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"owngame/handlers"
	"owngame/services"

	"github.com/gin-gonic/gin"
)

func TestUpdatesRequireAdapterAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	dispatcher := services.NewDispatcher(services.Routes{}, services.NewMemoryLocker(), 0)
	SetupRoutes(router, handlers.NewUpdateHandler(dispatcher, nil), handlers.NewGameHandler(nil, services.NewHub(), nil), []byte("secret"), "")

	for _, path := range []string{"/api/updates", "/api/updates/raw"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s code = %d, want 401", path, w.Code)
		}
	}
}
