package agents

import (
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"
)

func queryInt(c *gin.Context, name string) int {
	v, _ := strconv.Atoi(c.Query(name))
	return v
}

func jsonMarshal(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
