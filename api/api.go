/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"errors"
	"net/http"

	"github.com/blnkfinance/intake"
	"github.com/blnkfinance/intake/api/middleware"
	"github.com/blnkfinance/intake/config"
	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	intake *intake.Intake
	router *gin.Engine
	poll   config.PollConfig
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/imports", a.UploadImport)
	router.GET("/imports", a.ListImports)
	router.POST("/imports/:id/process", a.ProcessImport)
	router.POST("/imports/:id/reimport", a.Reimport)
	router.GET("/imports/:id/status", a.GetImportStatus)
	router.GET("/imports/:id/wait", a.WaitForImport)

	router.GET("/audit/:type/:id", a.GetAuditEntries)
	return a.router
}

func NewAPI(i *intake.Intake) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	serviceName := conf.ProjectName
	if serviceName == "" {
		serviceName = "INTAKE"
	}

	r := gin.Default()
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{intake: i, router: r, poll: conf.Poll}
}

// respondError writes err with the status its code maps to. Pipeline
// sentinels that carry no APIError code get a fitting status here.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	switch {
	case errors.Is(err, intake.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, intake.ErrUnsupportedFile):
		status = http.StatusUnsupportedMediaType
	}

	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
