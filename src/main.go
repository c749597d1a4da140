package main

import (
	"carepay/src/admin"
	"carepay/src/boot"
	"carepay/src/config"
	"carepay/src/middlewares"
	"carepay/src/types"
	"carepay/src/utils"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"regexp"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/covalenthq/lumberjack"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	apiPrefix string = "/api/v1"
)

var refundReasonValidatorFunc validator.Func = func(fl validator.FieldLevel) bool {
	reason, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return slices.Contains(admin.RefundReasons, reason)
}

// notbefore checks a YYYY-MM-DD field against the sibling field named by the
// tag parameter.
var notBeforeField validator.Func = func(fl validator.FieldLevel) bool {
	date, ok := fl.Field().Interface().(string)
	if !ok || date == "" {
		return true
	}
	datetime, err := time.Parse(config.DAY_FORMAT, date)
	if err != nil {
		return false
	}
	field := fl.Parent().FieldByName(fl.Param())
	fieldValue, ok := field.Interface().(string)
	if !ok || fieldValue == "" {
		return true
	}
	fielddatetime, err := time.Parse(config.DAY_FORMAT, fieldValue)
	if err != nil {
		return false
	}
	return !datetime.Before(fielddatetime)
}

func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("refundreason", refundReasonValidatorFunc)
		v.RegisterValidation("notbefore", notBeforeField)
	}
}

func setupRouter() *gin.Engine {
	router := gin.Default()
	router.Use(middlewares.SecureHeaders)
	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})
	return router
}

func maintenanceModeMiddleware(g *gin.Engine) *gin.Engine {
	g.Use(func(ctx *gin.Context) {
		mm := os.Getenv("MAINTENANCE_MODE")
		atoi, err := strconv.ParseBool(mm)
		if err == nil && atoi {
			err := errors.New("server is under maintenance")
			log.Println(err.Error())
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, err.Error())
			return
		}
	})
	return g
}

func apiv1Group(g *gin.Engine) *gin.RouterGroup {
	apiv1 := g.Group(apiPrefix)
	return apiv1
}

// writeOutcome renders a money operation result with the status of its kind.
func writeOutcome(ctx *gin.Context, out types.Outcome) {
	if out.Success {
		ctx.JSON(http.StatusOK, out)
		return
	}
	status := out.Kind.HTTPStatus()
	if out.Reason == types.ErrNotFound.Error() {
		status = http.StatusNotFound
	}
	ctx.JSON(status, out)
}

func writeError(ctx *gin.Context, err error) {
	if errors.Is(err, types.ErrNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": types.ErrNotFound.Error()})
		return
	}
	out := types.OutcomeFromError(err)
	ctx.JSON(out.Kind.HTTPStatus(), gin.H{"error": out.Reason})
}

func registerRoutes(router *gin.Engine, s *boot.Services) {
	stripeWebhookRoute(router, s)

	authorized := router.Group(apiPrefix)
	authorized.Use(middlewares.AuthMiddleware)
	paymentRoutes(authorized, s)
	connectRoutes(authorized, s)

	adminGroup := authorized.Group("/admin")
	adminGroup.Use(middlewares.AdminOnly)
	adminRoutes(adminGroup, s)
}

func initLogger() {
	cwd, _ := os.Getwd()
	serverLogs := path.Join(cwd, "logs", "server.log")
	apiLogs := path.Join(cwd, "logs", "api.log")
	gin.ForceConsoleColor()

	os.MkdirAll(path.Join(cwd, "logs"), 0o755)
	f, _ := os.Create(apiLogs)
	gin.DefaultWriter = io.MultiWriter(f, os.Stdout)
	log.SetOutput(&lumberjack.Logger{
		Filename:   serverLogs,
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	})
}

func main() {
	apiEnv := os.Getenv("API_ENV")
	if apiEnv == "local" {
		cwd, _ := os.Getwd()
		if err := godotenv.Load(path.Join(cwd, ".env")); err != nil {
			panic(err)
		}
		config.API_ENV = apiEnv
	}
	initLogger()
	if utils.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	boot.InitDb()
	services, err := boot.InitServices(context.Background())
	if err != nil {
		log.Fatalf("Failed to initialize services: %s", err)
	}
	if err := boot.InitScheduler(services); err != nil {
		log.Fatalf("Failed to start scheduler: %s", err)
	}
	defer boot.StopScheduler()

	router := setupRouter()

	appHost := os.Getenv("APP_HOST")
	if apiEnv == "local" {
		router.Use(cors.Default())
	} else {
		cc := cors.DefaultConfig()
		cc.AllowMethods = append(cc.AllowMethods, "GET", "POST", "PATCH", "PUT", "DELETE", "HEAD")
		cc.AllowHeaders = append(cc.AllowHeaders, "Origin", "Authorization")
		cc.AllowOriginFunc = func(origin string) bool {
			match, _ := regexp.MatchString(appHost, origin)
			return appHost != "" && match
		}
		cc.AllowCredentials = true
		cc.AllowAllOrigins = false
		router.Use(cors.New(cc))
	}

	registerValidators()

	router = maintenanceModeMiddleware(router)

	registerRoutes(router, services)

	srv := &http.Server{Addr: ":9090", Handler: router}
	go func() {
		if os.Getenv("TLS_ENABLE") == "true" {
			cwd, _ := os.Getwd()
			certpath := path.Join(cwd, "certificates", "localhost.pem")
			keypath := path.Join(cwd, "certificates", "localhost-key.pem")
			if err := srv.ListenAndServeTLS(certpath, keypath); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("Failed to start server: %s", err)
			}
			return
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %s\n", err)
	}
}
