package api

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.WorkerInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	v1 := s.router.Group("/api/v1")

	cameras := v1.Group("/cameras")
	{
		cameras.GET("", s.cameraHandler.ListCameras)
		cameras.GET("/:id", s.cameraHandler.GetCamera)
		cameras.GET("/:id/mjpeg", s.cameraHandler.StreamMJPEG)
	}

	counters := v1.Group("/counters")
	{
		counters.GET("", s.counterHandler.ListCounters)
		counters.GET("/:id", s.counterHandler.GetCounters)
		counters.GET("/:id/crossings", s.counterHandler.ListCrossings)
	}

	v1.GET("/pipeline", s.systemHandler.GetPipeline)
	v1.GET("/system", s.systemHandler.GetStats)
}
