package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "qdrant"
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "dino_embedding_collection"
	}
	if cfg.Index.TimeoutSeconds == 0 {
		cfg.Index.TimeoutSeconds = 30
	}
	if cfg.Index.SQLitePath == "" {
		cfg.Index.SQLitePath = "/usr/local/var/ruiji/data/db/catalog.db"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/ruiji/data/models/dinov2-large.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.InputSize == 0 {
		cfg.Embedding.InputSize = 224
	}
	if cfg.Embedding.ResizeShortest == 0 {
		cfg.Embedding.ResizeShortest = 256
	}
	if cfg.Embedding.PatchSize == 0 {
		cfg.Embedding.PatchSize = 14
	}
	if cfg.Embedding.InputName == "" {
		cfg.Embedding.InputName = "pixel_values"
	}
	if cfg.Embedding.OutputName == "" {
		cfg.Embedding.OutputName = "last_hidden_state"
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 256
	}
	if cfg.Images.ThumbnailWidth == 0 {
		cfg.Images.ThumbnailWidth = 180
	}
	if cfg.Images.ThumbnailHeight == 0 {
		cfg.Images.ThumbnailHeight = 180
	}
	if cfg.Images.TimeoutSeconds == 0 {
		cfg.Images.TimeoutSeconds = 30
	}
	if cfg.Images.MaxBytes == 0 {
		cfg.Images.MaxBytes = 32 << 20
	}
	if cfg.Images.Concurrency == 0 {
		cfg.Images.Concurrency = 8
	}
	if cfg.Browse.SampleLimit == 0 {
		cfg.Browse.SampleLimit = 100
	}
	if cfg.Browse.DisplayCap == 0 {
		cfg.Browse.DisplayCap = 30
	}
	if cfg.Browse.Shuffle == nil {
		t := true
		cfg.Browse.Shuffle = &t
	}
	if cfg.Browse.RecommendLimit == 0 {
		cfg.Browse.RecommendLimit = 100
	}
	if cfg.Browse.SimilarCap == 0 {
		cfg.Browse.SimilarCap = 15
	}
	if cfg.Browse.SearchLimit == 0 {
		cfg.Browse.SearchLimit = 50
	}
	if cfg.Browse.TopK == 0 {
		cfg.Browse.TopK = 8
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
