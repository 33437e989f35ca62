package scoring

type Options struct {
	Listen          string `env:"SCORESERVER_LISTEN"`
	ModelRepository string `env:"model_repository"`
	SystemLog       string `env:"SCORESERVER_SYSTEM_LOG"`
	Python          string `env:"SCORESERVER_PYTHON"`
	SampleFile      string
	MaxConcurrent   int64 `env:"SCORESERVER_MAX_CONCURRENT"`
	MaxUploadSize   int64
}

func DefaultOptions() *Options {
	return &Options{
		Listen:          ":8080",
		ModelRepository: "/pybox/model",
		SystemLog:       "/var/log/scoreserver.log",
		Python:          "python",
		SampleFile:      "sample.csv",
		MaxConcurrent:   4,
		MaxUploadSize:   256 << 20,
	}
}
