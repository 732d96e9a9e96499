package swagger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v3"
)

func TestSwaggerHandler(t *testing.T) {
	convey.Convey("Given a router with the docs routes", t, func() {
		r := chi.NewRouter()
		Register(r)

		convey.Convey("When the OpenAPI document is requested", func() {
			req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", http.NoBody)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			convey.Convey("Then it is valid YAML describing the vote route", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "application/yaml; charset=utf-8")

				var doc struct {
					Paths map[string]any `yaml:"paths"`
				}
				convey.So(yaml.Unmarshal(w.Body.Bytes(), &doc), convey.ShouldBeNil)
				convey.So(doc.Paths, convey.ShouldContainKey, "/staff/{id}/votes")
				convey.So(doc.Paths, convey.ShouldContainKey, "/board")
			})
		})

		convey.Convey("When the docs page is requested", func() {
			req := httptest.NewRequest(http.MethodGet, "/api-docs", http.NoBody)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			convey.Convey("Then ReDoc is pointed at the spec", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "text/html; charset=utf-8")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, `spec-url="/openapi.yaml"`)
			})
		})

		convey.Convey("When registering on a nil router", func() {
			convey.Convey("Then it panics", func() {
				convey.So(func() { Register(nil) }, convey.ShouldPanic)
			})
		})
	})
}
