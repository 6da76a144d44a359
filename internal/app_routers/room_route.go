package approuters

import (
	"Roomchat/internal/configuration"

	"github.com/gin-gonic/gin"
)

func RoomRouters(router *gin.Engine, container *configuration.Container) {
	roomRoute := router.Group("/cf/api/rooms")
	{
		roomRoute.GET("/:roomId/messages", container.RoomHandler.GetRoomMessages)
	}
}
