package worker

import (
	"github.com/stroycontrol/defect-service/internal/events"
	"github.com/stroycontrol/defect-service/internal/service"
)

// StartNotificationWorker registers the subscribers that observe committed defect events.
// redisPublisher may be nil when Redis is not configured.
func StartNotificationWorker(dispatcher events.Dispatcher, notificationService *service.NotificationService, redisPublisher *events.RedisPublisher) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if redisPublisher != nil && dispatcher != nil {
		redisPublisher.Register(dispatcher)
	}
}
