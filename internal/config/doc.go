// Package config loads the two kinds of configuration the dev server needs.
//
// The project manifest is the application's elm.json. Only the parts the dev
// server cares about are read: the source directories to watch.
//
// Dev settings control the server itself (port, base path, worker count and
// so on). They are resolved with viper from, in increasing precedence:
// built-in defaults, an optional elm-pages.dev.{yaml,toml,json} file in the
// project root, ELM_PAGES_* environment variables, and command-line flags.
//
//	v := viper.New()
//	config.SetDefaults(v)
//	dev, err := config.Load(v, ".")
//	fmt.Println(dev.URL()) // http://localhost:1234
package config
