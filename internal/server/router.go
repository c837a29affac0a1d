package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"wallet-ext/internal/handler"
	"wallet-ext/pkg/config"
	"wallet-ext/pkg/monitor"
)

// NewHTTPRouter 组装 HTTP 路由。
// 业务入口只有一个 RPC 端点，其余是运维端点。
func NewHTTPRouter(rpc *handler.RPCHandler, wallet config.WalletConfig) *gin.Engine {
	if config.Global.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(monitor.PrometheusMiddleware())

	// 运维端点
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")
	api.Use(SenderTrustMiddleware(wallet.TrustedOrigins))
	{
		api.POST("/rpc", rpc.Dispatch)
	}

	return r
}

// SenderTrustMiddleware 判定请求来源是否可信并写入 gin context。
// 可信 = Origin 在白名单中，或请求带扩展自己的客户端标头。
// 这里只打标记，放行与否由命令分发器按命令类别决定。
func SenderTrustMiddleware(trustedOrigins []string) gin.HandlerFunc {
	allow := make(map[string]bool, len(trustedOrigins))
	for _, o := range trustedOrigins {
		allow[o] = true
	}

	return func(c *gin.Context) {
		trusted := c.GetHeader("X-Wallet-Client") == "extension"
		if !trusted {
			trusted = allow[c.GetHeader("Origin")]
		}
		c.Set(handler.SenderTrustedKey, trusted)
		c.Next()
	}
}
