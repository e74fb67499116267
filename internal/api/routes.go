package api

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.WorkerInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	cameras := s.router.Group("/cameras")
	{
		cameras.GET("", s.cameraHandler.ListCameras)
		cameras.GET("/:id/status", s.cameraHandler.GetCameraStatus)
		cameras.GET("/:id/frame", s.cameraHandler.GetLatestFrame)
		cameras.GET("/:id/stream", s.cameraHandler.StreamCamera)
	}

	s.router.GET("/notifications", s.alertsHandler.ListNotifications)
	s.router.GET("/detections/:filename", s.alertsHandler.GetDetectionImage)
}
