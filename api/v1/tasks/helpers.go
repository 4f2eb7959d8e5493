package tasks

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

func queryInt(c *gin.Context, name string) int {
	v, _ := strconv.Atoi(c.Query(name))
	return v
}
