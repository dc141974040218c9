// Package config loads the bridge configuration file.
//
// The file is YAML. Every key is optional and falls back to Default();
// unknown keys are an error so typos do not pass silently.
//
// # Configuration File Location
//
// Without an explicit --config path the first existing file wins:
//   - $XDG_CONFIG_HOME/wise/config.yaml or $HOME/.config/wise/config.yaml
//   - /etc/wise/config.yaml
//
// If neither exists the defaults are used.
//
// # Example
//
//	hostname: lab-console
//	wifi:
//	  mode: sta
//	  ssid: workshop
//	  key: changemeASAP
//	http:
//	  port: 8080
//	  basic_auth:
//	    username: admin
//	    password: secret
//	uart:
//	  port: /dev/ttyUSB0
//	  baudrate: 115200
//	  parity: none
//
// # Security
//
// The file holds the network key and HTTP password. Save writes it with
// mode 0600.
package config
