package core

import "github.com/gin-gonic/gin"

// respondError sends the failure envelope {"success":false,"error":CODE,"message":...}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"success": false, "error": code, "message": message})
}

// respondData sends the success envelope {"success":true,"data":...}.
func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}
