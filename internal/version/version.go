package version

import "fmt"

// Значения подставляются через -ldflags при сборке релиза;
// дефолты соответствуют локальному go build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info отдаёт версию, коммит и дату сборки по отдельности.
func Info() (v, c, d string) { return version, commit, date }

// String форматирует сведения о сборке одной строкой для логов.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
