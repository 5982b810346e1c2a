package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/dataroom"
)

// uuidParam reads a UUID path parameter, answering 400 when it does not parse.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// roomParams reads :companyId and :roomId.
func roomParams(c *gin.Context) (companyID, roomID uuid.UUID, ok bool) {
	if companyID, ok = uuidParam(c, "companyId"); !ok {
		return
	}
	roomID, ok = uuidParam(c, "roomId")
	return
}

func requestMeta(c *gin.Context) dataroom.RequestMeta {
	return dataroom.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
