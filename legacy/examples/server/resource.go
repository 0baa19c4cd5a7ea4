package main

import (
	"github.com/gin-gonic/gin"
	x402 "github.com/x402-engine/x402"
	x402http "github.com/x402-engine/x402/http"
	ginmw "github.com/x402-engine/x402/http/gin"
)

func main() {
	r := gin.Default()

	routes := x402http.RoutesConfig{
		"GET /joke": {
			Resource: "http://localhost:4021/joke",
			Accepts: x402http.PaymentOptions{
				{
					Scheme:  "exact",
					Network: x402.Network("eip155:84532"),
					PayTo:   "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
					Price:   "$0.0001",
				},
			},
		},
	}

	r.GET(
		"/joke",
		ginmw.PaymentMiddlewareFromConfig(routes),
		func(c *gin.Context) {
			c.JSON(200, gin.H{
				"joke": "Why do programmers prefer dark mode? Because light attracts bugs!",
			})
		},
	)

	r.Run(":4021")
}
