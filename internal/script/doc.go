// Package script decodes bot scripts into typed module and action values.
//
// A script is YAML: a list of {type, data} records, either bare or under
// a "modules" key next to optional "name" and "images_dir" fields.
//
//	name: farm
//	modules:
//	  - type: activity
//	    data:
//	      package: com.example.game
//	      action: continue_bot
//	      lines: "2-20"
//	      continue_options:
//	        - type: close_game
//	        - type: time_sleep
//	          data: {time: 2}
//	        - type: start_game
//	  - type: image_search
//	    data:
//	      images: [play.png, close.png]
//	      timeout: 15
//	      script_items:
//	        - type: if_result
//	          data: {image: play.png, get_coords: true}
//	        - type: elif
//	          data:
//	            image: close.png
//	            actions:
//	              - type: click
//	                data: {x: 540, y: 1600, sleep: 1}
//	        - type: if_not_result
//	          data: {stop_bot: true}
//
// Everything is validated at load time. Unknown types, missing required
// fields and out-of-range restart lines are errors wrapping
// ErrInvalidScript; malformed monitor line ranges are skipped and
// reported in Script.Warnings.
package script
